package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// configCommands prints the computed configuration with the secret key masked. An optional
// argument selects one top-level section, e.g. `onboarding config gateway`.
func configCommands(app *onboardingInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "config [section]",
		Short: "print the computed configuration",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := *app.cnf
			if cfg.Server.SecretKey != "" {
				cfg.Server.SecretKey = "********"
			}

			var out interface{} = cfg
			if len(args) == 1 {
				raw, err := json.Marshal(cfg)
				if err != nil {
					log.Fatalf("Error encoding config: %v\n", err)
				}
				sections := map[string]json.RawMessage{}
				if err := json.Unmarshal(raw, &sections); err != nil {
					log.Fatalf("Error encoding config: %v\n", err)
				}
				section, ok := sections[args[0]]
				if !ok {
					log.Fatalf("unknown config section %q\n", args[0])
				}
				out = section
			}

			data, err := json.MarshalIndent(out, "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}
			fmt.Println(string(data))
		},
	}
}
