package main

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and change launcher settings",
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print a setting, e.g. lang.voice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := store.Value(args[0])
		if err != nil {
			return err
		}
		if s, ok := v.(string); ok {
			cmd.Println(s)
			return nil
		}
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Change a setting. VALUE is parsed as JSON when possible",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return store.SetValue(args[0], parseValue(args[1]))
	},
}

// parseValue keeps plain words as strings and decodes numbers, booleans
// and JSON objects.
func parseValue(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
