package generator

import (
	"context"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/pile"
	"codeberg.org/mutker/pilewatch/internal/risk"
	"gopkg.in/yaml.v3"
)

const (
	hourlyPoints = 24
	dailyPoints  = 30
	hourlyJitter = 0.05
	dailyJitter  = 0.1

	overCeiling = -1.25
	normalFloor = -1.15
	normalCeil  = -0.9
	underFloor  = -0.8
)

// Profile describes a seeded pile and the protection state its readings
// should land in. Profiles in the unknown state get sentinel readings.
type Profile struct {
	Name        string     `yaml:"name"`
	Longitude   float64    `yaml:"longitude"`
	Latitude    float64    `yaml:"latitude"`
	PipelineID  string     `yaml:"pipeline_id"`
	Description string     `yaml:"description"`
	State       risk.Level `yaml:"state"`
	BaseVoltage float64    `yaml:"base_voltage"`
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// DefaultProfiles returns one pile per risk level along pipeline P02.
func DefaultProfiles() []Profile {
	return []Profile{
		{Name: "A001", Longitude: 116.410, Latitude: 39.905, PipelineID: "P02",
			Description: "Seeded over-protected pile", State: risk.OverProtected, BaseVoltage: -1.3},
		{Name: "B002", Longitude: 116.415, Latitude: 39.908, PipelineID: "P02",
			Description: "Seeded normal pile", State: risk.Normal, BaseVoltage: -1.0},
		{Name: "C003", Longitude: 116.420, Latitude: 39.910, PipelineID: "P02",
			Description: "Seeded under-protected pile", State: risk.UnderProtected, BaseVoltage: -0.7},
		{Name: "D004", Longitude: 116.425, Latitude: 39.912, PipelineID: "P02",
			Description: "Seeded pile without measurements", State: risk.Unknown},
	}
}

// LoadProfiles reads seed profiles from a YAML file.
func LoadProfiles(path string) ([]Profile, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrInvalidProfiles, err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errFactory.Wrap(ErrInvalidProfiles, err)
	}

	if len(file.Profiles) == 0 {
		return nil, errFactory.WithMessage(ErrInvalidProfiles, "no profiles defined")
	}
	for i, p := range file.Profiles {
		if strings.TrimSpace(p.Name) == "" {
			return nil, errFactory.WithData(ErrInvalidProfiles, struct {
				Index int
				Field string
			}{Index: i, Field: "name"})
		}
	}

	return file.Profiles, nil
}

// Seed ensures every profile pile exists and writes 24 hourly readings and
// 30 daily readings ending at now. It returns the number of readings stored.
func (g *Generator) Seed(ctx context.Context, profiles []Profile, now time.Time) (int, error) {
	errFactory := errors.New()

	total := 0
	for _, p := range profiles {
		id, created, err := g.store.EnsurePile(ctx, pile.Pile{
			Name:        p.Name,
			Longitude:   p.Longitude,
			Latitude:    p.Latitude,
			PipelineID:  p.PipelineID,
			Description: p.Description,
			CreatedAt:   now,
		})
		if err != nil {
			return total, errFactory.Wrap(ErrSeedFailed, err)
		}

		readings := make([]pile.Reading, 0, hourlyPoints+dailyPoints)
		for i := 0; i < hourlyPoints; i++ {
			ts := now.Add(-time.Duration(i)*time.Hour - time.Duration(g.rnd.Intn(60))*time.Minute)
			readings = append(readings, pile.Reading{
				PileID:    id,
				Voltage:   g.seedVoltage(p, hourlyJitter),
				Timestamp: ts,
			})
		}
		for i := 0; i < dailyPoints; i++ {
			ts := now.AddDate(0, 0, -i).
				Add(-time.Duration(g.rnd.Intn(24))*time.Hour - time.Duration(g.rnd.Intn(60))*time.Minute)
			readings = append(readings, pile.Reading{
				PileID:    id,
				Voltage:   g.seedVoltage(p, dailyJitter),
				Timestamp: ts,
			})
		}

		if err := g.store.InsertReadings(ctx, readings); err != nil {
			return total, errFactory.Wrap(ErrSeedFailed, err)
		}
		total += len(readings)

		g.log.Info().
			Str("name", p.Name).
			Int64("id", id).
			Bool("created", created).
			Str("state", p.State.String()).
			Int("readings", len(readings)).
			Msg("Seeded test pile")
	}

	return total, nil
}

func (g *Generator) seedVoltage(p Profile, jitter float64) float64 {
	if p.State == risk.Unknown {
		return pile.SentinelVoltage
	}

	v := p.BaseVoltage + (g.rnd.Float64()*2-1)*jitter
	return round(clampToState(v, p.State), g.cfg.Precision)
}

func clampToState(v float64, state risk.Level) float64 {
	switch state {
	case risk.OverProtected:
		return min(v, overCeiling)
	case risk.Normal:
		return max(normalFloor, min(v, normalCeil))
	case risk.UnderProtected:
		return max(v, underFloor)
	default:
		return v
	}
}
