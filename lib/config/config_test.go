// config_test.go tests config files
package config

import (
	"os"
	"testing"
)

// fileToTest is a relative path to the configuration file to test (ie. custody/cmd/conf.json)
var fileToTest string = "../../cmd/conf.json"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	//extract configuration
	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Errorf("Error reading config file:%e\n", err)
	} else {
		// lets check the port
		if conf.Port != "3030" {
			t.Errorf("config port is not the expected %s", conf.Port)
		}
		// and the currencies
		if len(conf.Currencies) != 3 {
			t.Errorf("currencies do not match the expected %v", conf.Currencies)
		} else {
			if conf.Currencies[0].ID != "btc" || conf.Currencies[1].ID != "eth" || conf.Currencies[2].ID != "usdt" {
				t.Errorf("currencies do not match the expected %v", conf.Currencies)
			}
			if conf.Currencies[2].Contract == "" {
				t.Errorf("usdt should carry a contract address %v", conf.Currencies[2])
			}
		}
	}
}

// TestConfigEnvOverride checks OS ENV variables take precedence over file values
func TestConfigEnvOverride(t *testing.T) {
	os.Setenv("CSD_PORT", "4040")
	os.Setenv("CSD_CURRENCIES", `[{"id":"eth","baseFactor":1000000000000000000,"minCollection":"0.05"}]`)
	defer os.Unsetenv("CSD_PORT")
	defer os.Unsetenv("CSD_CURRENCIES")

	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Errorf("Error reading config file:%e\n", err)
	}
	if conf.Port != "4040" {
		t.Errorf("config port is not the expected %s", conf.Port)
	}
	cur, ok := conf.Currency("eth")
	if !ok || cur.MinCollection != "0.05" {
		t.Errorf("currency override did not apply %v", conf.Currencies)
	}
	if _, ok = conf.Currency("btc"); ok {
		t.Errorf("currency list should have been replaced %v", conf.Currencies)
	}
}
