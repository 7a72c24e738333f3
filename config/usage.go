// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "fmt"

const usageText = `Configuration
  Every flag may also be given in the JSON file named by --config-file (or
  CONFIG_FILE) using the flag name as key, or as an environment variable with
  the name upper cased and hyphens replaced by underscores, e.g.
  PRIVATE_KEY=0x... or RPC_URL=http://localhost:8545.
  Flags take precedence over the environment, which takes precedence over
  the config file.
`

// UsageText describes the configuration sources.
func UsageText() string {
	return usageText
}

func DisplayUsageText() {
	fmt.Print(usageText)
}
