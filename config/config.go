/*
Copyright 2024 Corrit Electric Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5400"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"AUTOPAY_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"AUTOPAY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"AUTOPAY_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"AUTOPAY_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"AUTOPAY_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"AUTOPAY_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"AUTOPAY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"AUTOPAY_REDIS_DNS"`
}

// GatewayConfig carries the UPI payment-provider credentials. The salt key
// and index sign every request; the callback URL is where the provider
// pushes order-status updates.
type GatewayConfig struct {
	BaseUrl        string `json:"base_url" envconfig:"AUTOPAY_GATEWAY_BASE_URL"`
	MerchantId     string `json:"merchant_id" envconfig:"AUTOPAY_GATEWAY_MERCHANT_ID"`
	SaltKey        string `json:"salt_key" envconfig:"AUTOPAY_GATEWAY_SALT_KEY"`
	SaltIndex      string `json:"salt_index" envconfig:"AUTOPAY_GATEWAY_SALT_INDEX"`
	CallbackUrl    string `json:"callback_url" envconfig:"AUTOPAY_GATEWAY_CALLBACK_URL"`
	TimeoutSeconds int    `json:"timeout_seconds" envconfig:"AUTOPAY_GATEWAY_TIMEOUT_SECONDS"`
}

type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"AUTOPAY_QUEUE_WEBHOOK"`
	PollQueue      string `json:"poll_queue" envconfig:"AUTOPAY_QUEUE_POLL"`
	DebitQueue     string `json:"debit_queue" envconfig:"AUTOPAY_QUEUE_DEBIT"`
	NumberOfQueues int    `json:"number_of_queues" envconfig:"AUTOPAY_QUEUE_NUMBER_OF_QUEUES"`
	MaxPollRetries int    `json:"max_poll_retries" envconfig:"AUTOPAY_QUEUE_MAX_POLL_RETRIES"`
	MonitoringPort string `json:"monitoring_port" envconfig:"AUTOPAY_QUEUE_MONITORING_PORT"`
}

// ForecastConfig tunes the rolling collection forecast. SuccessRate is the
// historical debit success ratio used to split in-flight amounts.
type ForecastConfig struct {
	SuccessRate      float64 `json:"success_rate" envconfig:"AUTOPAY_FORECAST_SUCCESS_RATE"`
	WindowDays       int     `json:"window_days" envconfig:"AUTOPAY_FORECAST_WINDOW_DAYS"`
	ExpiryNoticeDays int     `json:"expiry_notice_days" envconfig:"AUTOPAY_FORECAST_EXPIRY_NOTICE_DAYS"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"AUTOPAY_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"AUTOPAY_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"AUTOPAY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"AUTOPAY_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Gateway      GatewayConfig    `json:"gateway"`
	Queue        QueueConfig      `json:"queue"`
	Forecast     ForecastConfig   `json:"forecast"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("autopay", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called autopay.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Autopay Server"
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Gateway.BaseUrl = strings.TrimSpace(cnf.Gateway.BaseUrl)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Gateway.TimeoutSeconds <= 0 {
		cnf.Gateway.TimeoutSeconds = 30
	}
	if cnf.Gateway.SaltIndex == "" {
		cnf.Gateway.SaltIndex = "1"
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "autopay:webhook"
	}
	if cnf.Queue.PollQueue == "" {
		cnf.Queue.PollQueue = "autopay:poll"
	}
	if cnf.Queue.DebitQueue == "" {
		cnf.Queue.DebitQueue = "autopay:debit"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 4
	}
	if cnf.Queue.MaxPollRetries <= 0 {
		cnf.Queue.MaxPollRetries = 3
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5403"
	}

	if cnf.Forecast.SuccessRate <= 0 || cnf.Forecast.SuccessRate > 1 {
		cnf.Forecast.SuccessRate = 0.85
	}
	if cnf.Forecast.WindowDays <= 0 {
		cnf.Forecast.WindowDays = 30
	}
	if cnf.Forecast.ExpiryNoticeDays <= 0 {
		cnf.Forecast.ExpiryNoticeDays = 7
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
