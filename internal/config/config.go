package config

import (
	"log/slog"

	"github.com/ivmironov/order-saga/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MustInit loads environment variables and the yaml config, then sets up the logger.
func MustInit(serviceName string) {
	if err := godotenv.Load("./.env"); err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/" + serviceName)
	viper.AddConfigPath("./configs/" + serviceName)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		panic("error while reading config file: " + err.Error())
	}
	SetupLogger()
}

func SetupLogger() {
	handler := logger.NewHandler(nil)
	log := slog.New(handler)
	slog.SetDefault(log)
}
