package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/jeajq/jobtracker/api"
)

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "perf-user", "prefix for generated user IDs when count > 1")
		start  = flag.Int("start", 1, "starting index for generated user IDs when count > 1")
		role   = flag.String("role", api.RoleApplicant, "account type claim: applicant or employer")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	_ = godotenv.Load()

	if *count < 1 {
		log.Fatal("count must be at least 1")
	}
	if *start < 1 {
		log.Fatal("start index must be at least 1")
	}
	if *role != api.RoleApplicant && *role != api.RoleEmployer {
		log.Fatalf("unknown role %q", *role)
	}
	args := flag.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit user ID cannot be provided when generating multiple tokens")
	}

	secret := []byte(os.Getenv("TEST_JWT_SECRET"))
	tokens := make([]string, *count)
	for i := range tokens {
		userID := userIDFor(i, *count, *prefix, *start, args)
		tok, err := api.SignTestToken(secret, userID, *role, *ttl)
		if err != nil {
			log.Fatalf("generate token: %v", err)
		}
		tokens[i] = tok
	}

	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func userIDFor(i, count int, prefix string, start int, args []string) string {
	switch {
	case len(args) > 0:
		return args[0]
	case count == 1:
		return prefix
	default:
		return fmt.Sprintf("%s-%d", prefix, start+i)
	}
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
