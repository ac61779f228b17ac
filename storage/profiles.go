package storage

import (
	"context"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/jeajq/jobtracker/domain"
)

// Profiles of employers and of everyone else live in separate partitions.
const (
	usersPartition     = "users"
	employersPartition = "employers"
)

type profileEntity struct {
	entity
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
	Email     string `json:"Email"`
	Phone     string `json:"Phone,omitempty"`
}

func profilePartition(role string) string {
	if role == domain.RoleEmployer {
		return employersPartition
	}
	return usersPartition
}

func toProfileEntity(p domain.Profile) profileEntity {
	return profileEntity{
		entity:    entity{PartitionKey: profilePartition(p.Role), RowKey: p.UserID},
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Phone:     p.Phone,
	}
}

func (e profileEntity) profile(role string) domain.Profile {
	return domain.Profile{
		UserID:    e.RowKey,
		Role:      role,
		FirstName: e.FirstName,
		LastName:  e.LastName,
		Email:     e.Email,
		Phone:     e.Phone,
	}
}

// Profile reads the profile of userID. A missing profile yields ErrNotFound.
func (t *Tables) Profile(ctx context.Context, role, userID string) (domain.Profile, error) {
	resp, err := t.profiles.GetEntity(ctx, profilePartition(role), userID, nil)
	if isStatus(err, http.StatusNotFound) {
		return domain.Profile{}, ErrNotFound
	}
	if err != nil {
		return domain.Profile{}, err
	}
	var ent profileEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Profile{}, err
	}
	return ent.profile(role), nil
}

// SaveProfile creates or replaces a profile.
func (t *Tables) SaveProfile(ctx context.Context, p domain.Profile) error {
	payload, err := sonic.Marshal(toProfileEntity(p))
	if err == nil {
		_, err = t.profiles.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	}
	return err
}
