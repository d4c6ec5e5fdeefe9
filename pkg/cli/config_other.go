//go:build !linux

package cli

import "flag"

// Only Linux hosts can choose between adapters.
func (c *Config) registerFlagsOsSpecific(fs *flag.FlagSet) {}
