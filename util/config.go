package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const Name = "fedistore"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		DbFile               string `yaml:"dbFile"`
		WithDelivery         bool   `yaml:"withDelivery"`
		DeliveryIntervalSecs int    `yaml:"deliveryIntervalSecs"`
		MaxDeliveryAttempts  int    `yaml:"maxDeliveryAttempts"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envDbFile := os.Getenv("FEDISTORE_DBFILE")
	envWithDelivery := os.Getenv("FEDISTORE_WITH_DELIVERY")
	envDeliveryInterval := os.Getenv("FEDISTORE_DELIVERY_INTERVAL")
	envMaxAttempts := os.Getenv("FEDISTORE_MAX_DELIVERY_ATTEMPTS")

	if envDbFile != "" {
		c.Conf.DbFile = envDbFile
	}

	if envWithDelivery == "true" {
		c.Conf.WithDelivery = true
	}

	if envDeliveryInterval != "" {
		v, err := strconv.Atoi(envDeliveryInterval)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.DeliveryIntervalSecs = v
	}

	if envMaxAttempts != "" {
		v, err := strconv.Atoi(envMaxAttempts)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.MaxDeliveryAttempts = v
	}

	return c, nil
}
