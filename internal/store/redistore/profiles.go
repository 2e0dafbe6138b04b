package redistore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
)

// Profiles are hashes so the user-owned and learner-owned field sets can
// be written independently without clobbering each other.

func (s *Store) getProfile(ctx context.Context, hardwareID string) (domain.DeviceProfile, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key("profile", hardwareID)).Result()
	if err != nil {
		return domain.DeviceProfile{}, fmt.Errorf("profile get: %w", err)
	}

	if len(fields) == 0 {
		return domain.DeviceProfile{}, store.ErrNotFound
	}

	p := domain.DeviceProfile{
		HardwareID: hardwareID,
		PlantType:  fields["plant_type"],
		SoilType:   fields["soil_type"],
	}

	if p.PotSizeLiters, err = hashFloat(fields, "pot_size_liters"); err != nil {
		return domain.DeviceProfile{}, err
	}

	if p.ExpectedIntervalSec, err = hashInt(fields, "expected_interval_sec"); err != nil {
		return domain.DeviceProfile{}, err
	}

	if raw, ok := fields["typical_watering_interval_sec"]; ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.DeviceProfile{}, fmt.Errorf("field typical_watering_interval_sec: %w", err)
		}

		p.TypicalWateringIntervalSec = domain.Ptr(v)
	}

	if raw, ok := fields["baseline_moisture_range"]; ok {
		var mr domain.MoistureRange
		if err := json.Unmarshal([]byte(raw), &mr); err != nil {
			return domain.DeviceProfile{}, fmt.Errorf("field baseline_moisture_range: %w", err)
		}

		p.BaselineMoistureRange = &mr
	}

	if raw, ok := fields["last_watering_events"]; ok {
		if err := json.Unmarshal([]byte(raw), &p.LastWateringEvents); err != nil {
			return domain.DeviceProfile{}, fmt.Errorf("field last_watering_events: %w", err)
		}
	}

	return p, nil
}

// putUserFields overwrites the user-owned subset only.
func (s *Store) putUserFields(ctx context.Context, p domain.DeviceProfile) error {
	err := s.rdb.HSet(ctx, s.key("profile", p.HardwareID), map[string]any{
		"plant_type":            p.PlantType,
		"soil_type":             p.SoilType,
		"pot_size_liters":       p.PotSizeLiters,
		"expected_interval_sec": p.ExpectedIntervalSec,
	}).Err()
	if err != nil {
		return fmt.Errorf("profile user fields: %w", err)
	}

	return nil
}

// applyLearned writes the learner-owned subset only. Nil fields are
// left untouched.
func (s *Store) applyLearned(ctx context.Context, hardwareID string, upd store.LearnedProfileUpdate) error {
	fields := map[string]any{}

	if upd.TypicalWateringIntervalSec != nil {
		fields["typical_watering_interval_sec"] = *upd.TypicalWateringIntervalSec
	}

	if upd.BaselineMoistureRange != nil {
		blob, err := json.Marshal(upd.BaselineMoistureRange)
		if err != nil {
			return fmt.Errorf("marshal baseline: %w", err)
		}

		fields["baseline_moisture_range"] = blob
	}

	if upd.LastWateringEvents != nil {
		blob, err := json.Marshal(upd.LastWateringEvents)
		if err != nil {
			return fmt.Errorf("marshal watering events: %w", err)
		}

		fields["last_watering_events"] = blob
	}

	if len(fields) == 0 {
		return nil
	}

	if err := s.rdb.HSet(ctx, s.key("profile", hardwareID), fields).Err(); err != nil {
		return fmt.Errorf("profile learned fields: %w", err)
	}

	return nil
}
