// Package config loads the Atomberg core settings.
//
// Values are resolved in order: built-in defaults, the YAML file, an
// optional .env file (LoadEnvFile) and finally ATOMBERG_* environment
// variables. Validate reports every problem at once.
//
// Account credentials may appear in the accounts list, but the usual place
// is ATOMBERG_API_KEY / ATOMBERG_REFRESH_TOKEN or the settings store; the
// YAML seeds the store once and is not consulted again for known ids.
//
//	if err := config.LoadEnvFile(".env"); err != nil {
//	    return err
//	}
//	cfg, err := config.Load("configs/config.yaml")
package config
