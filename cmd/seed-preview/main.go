// Package main prints the population a given seed would bootstrap,
// without touching a database. Useful for checking household shapes
// before pointing the simulation at a fresh store.
package main

import (
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/mockingbird-labs/minifirm/internal/platform/config"
	"github.com/mockingbird-labs/minifirm/internal/random"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/seed"
)

func main() {
	households := flag.Int("households", 12, "Household count to generate")
	seedValue := flag.Int64("seed", 0, "RNG seed (0 generates a random one)")
	flag.Parse()

	value := *seedValue
	if value == 0 {
		generated, err := random.NewSeed()
		if err != nil {
			config.Exitf("generate seed: %v", err)
		}
		value = generated
	}

	population, err := seed.Population(*households, value, time.Now().UTC())
	if err != nil {
		config.Exitf("build population: %v", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(map[string]any{
		"seed":     value,
		"entities": population,
	}); err != nil {
		config.Exitf("encode population: %v", err)
	}
}
