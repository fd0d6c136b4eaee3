package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string

	// Remote collaborators.
	CatalogURL    string
	PaymentURL    string
	PaymentSecret string // HMAC secret the payment service signs callbacks with
	Currency      string // settlement currency for payment sessions
	AmqpURL       string // optional; empty disables the broker consumer
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:        os.Getenv("DB_HOST"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBName:        os.Getenv("DB_NAME"),
		DBPort:        os.Getenv("DB_PORT"),
		AppPort:       os.Getenv("APP_PORT"),
		AppEnv:        os.Getenv("APP_ENV"),
		CatalogURL:    os.Getenv("CATALOG_SERVICE_URL"),
		PaymentURL:    os.Getenv("PAYMENT_SERVICE_URL"),
		PaymentSecret: os.Getenv("PAYMENT_CALLBACK_SECRET"),
		Currency:      os.Getenv("PAYMENT_CURRENCY"),
		AmqpURL:       os.Getenv("AMQP_URL"),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}

	return cfg
}
