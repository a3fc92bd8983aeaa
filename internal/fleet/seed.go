package fleet

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Boats []struct {
		ID           string `yaml:"id"`
		Name         string `yaml:"name"`
		Firmware     string `yaml:"firmware"`
		ChipType     string `yaml:"chip_type"`
		Password     string `yaml:"password"`
		PasswordHash string `yaml:"password_hash"`
	} `yaml:"boats"`
	Distributors []Distributor `yaml:"distributors"`
}

// Seed loads boats and distributors from a YAML file into store. Boats may
// carry a plain password, which is hashed, or a ready bcrypt hash.
func Seed(ctx context.Context, store Store, path string) (boats, distributors int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("fleet: reading seed file %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, 0, fmt.Errorf("fleet: parsing seed file %s: %w", path, err)
	}

	for _, b := range f.Boats {
		id, err := NormalizeBoatID(b.ID)
		if err != nil {
			return boats, distributors, fmt.Errorf("fleet: seed boat %q: %w", b.ID, err)
		}
		hash := b.PasswordHash
		if hash == "" {
			if b.Password == "" {
				return boats, distributors, fmt.Errorf("fleet: seed boat %q has no password", id)
			}
			if hash, err = HashPassword(b.Password); err != nil {
				return boats, distributors, fmt.Errorf("fleet: hash password of %q: %w", id, err)
			}
		}
		boat := Boat{ID: id, Name: b.Name, Firmware: b.Firmware, ChipType: b.ChipType, PasswordHash: hash}
		if err := store.PutBoat(ctx, boat); err != nil {
			return boats, distributors, err
		}
		boats++
	}
	for _, d := range f.Distributors {
		if d.ID == "" {
			return boats, distributors, fmt.Errorf("fleet: seed distributor %q has no id", d.Name)
		}
		if err := store.PutDistributor(ctx, d); err != nil {
			return boats, distributors, err
		}
		distributors++
	}
	return boats, distributors, nil
}
