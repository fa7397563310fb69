package config

import (
	"log"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	IsDebug  bool   `yaml:"is_debug" env:"IS_DEBUG" env-default:"false"`
	TimeZone string `yaml:"time_zone" env-default:"UTC"`
	Listen   struct {
		BindIP   string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port     string `yaml:"port" env-default:"5000"`
		TLS      bool   `yaml:"tls_enabled" env-default:"false"`
		CertFile string `yaml:"cert_file" env-default:""`
		KeyFile  string `yaml:"key_file" env-default:""`
	} `yaml:"listen"`
	Soap struct {
		Enabled bool   `yaml:"enabled" env-default:"true"`
		BindIP  string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port    string `yaml:"port" env-default:"5001"`
	} `yaml:"soap"`
	Api struct {
		BindIP   string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port     string `yaml:"port" env-default:"5002"`
		TLS      bool   `yaml:"tls_enabled" env-default:"false"`
		CertFile string `yaml:"cert_file" env-default:""`
		KeyFile  string `yaml:"key_file" env-default:""`
	} `yaml:"api"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		BindIP  string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port    string `yaml:"port" env-default:"9100"`
	} `yaml:"metrics"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"localhost"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env:"MONGO_USER" env-default:""`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:""`
		Database string `yaml:"database" env-default:"ev_server"`
	} `yaml:"mongo"`
	Nats struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		Url     string `yaml:"url" env-default:"nats://localhost:4222"`
	} `yaml:"nats"`
	Telegram struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		ApiKey  string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
	} `yaml:"telegram"`
	Ocpi struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		Url     string `yaml:"url" env-default:""`
		Token   string `yaml:"token" env:"OCPI_TOKEN" env-default:""`
	} `yaml:"ocpi"`
	Oicp struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		Url     string `yaml:"url" env-default:""`
		Token   string `yaml:"token" env:"OICP_TOKEN" env-default:""`
	} `yaml:"oicp"`
	Billing struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		ApiUrl  string `yaml:"api_url" env-default:""`
		ApiKey  string `yaml:"api_key" env:"BILLING_API_KEY" env-default:""`
	} `yaml:"billing"`
	Pricing struct {
		Enabled  bool    `yaml:"enabled" env-default:"true"`
		PriceKwh float64 `yaml:"price_kwh" env-default:"0.25"`
		Currency string  `yaml:"currency" env-default:"EUR"`
	} `yaml:"pricing"`
	Ocpp struct {
		HeartbeatIntervalOcppSSecs int `yaml:"heartbeat_interval_ocpps_secs" env-default:"300"`
		HeartbeatIntervalOcppJSecs int `yaml:"heartbeat_interval_ocppj_secs" env-default:"60"`
		BootRejectRetrySecs        int `yaml:"boot_reject_retry_secs" env-default:"30"`
		MaxLastSeenIntervalSecs    int `yaml:"max_last_seen_interval_secs" env-default:"540"`
		PostBootConfigDelayMs      int `yaml:"post_boot_config_delay_ms" env-default:"3000"`
		SmartChargingDelayMs       int `yaml:"smart_charging_delay_ms" env-default:"2000"`
		PerCallTimeoutMs           int `yaml:"per_call_timeout_ms" env-default:"5000"`
	} `yaml:"ocpp"`
	Notifications struct {
		EndOfChargeEnabled       bool `yaml:"end_of_charge_enabled" env-default:"true"`
		BeforeEndOfChargeEnabled bool `yaml:"before_end_of_charge_enabled" env-default:"false"`
		BeforeEndOfChargePercent int  `yaml:"before_end_of_charge_percent" env-default:"85"`
	} `yaml:"notifications"`
}

var instance *Config
var once sync.Once

func GetConfig() (*Config, error) {
	var err error
	once.Do(func() {
		log.Println("reading config")
		instance = &Config{}
		if err = cleanenv.ReadConfig("config.yml", instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			log.Println(desc)
			log.Println(err)
			instance = nil
		}
	})
	return instance, err
}
