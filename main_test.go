package main

import "testing"

func TestParseRedisOptions(t *testing.T) {
	opts := parseRedisOptions("redis://:secret@localhost:6380/2")
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	opts = parseRedisOptions("cache.example.net:6380,password=pw,ssl=True,abortConnect=False")
	if opts.Addr != "cache.example.net:6380" || opts.Password != "pw" {
		t.Fatalf("unexpected connection string options: %+v", opts)
	}
	if opts.TLSConfig == nil {
		t.Fatal("expected tls for ssl=True")
	}
}
