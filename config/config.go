package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type LocMasterConfiguration struct {
	LocMasterDsn  string
	ManagementDsn string
	ListenAddr    string
}

func LoadEnvConfig(configName string) LocMasterConfiguration {
	err := godotenv.Load(configName)
	if err != nil {
		log.Fatal("Error loading .env file")
	}

	dsn := string(os.Getenv("LOCMASTER_DSN"))
	managementDsn := string(os.Getenv("LOCMASTER_MANAGEMENT_DSN"))
	listenAddr := string(os.Getenv("LOCMASTER_LISTEN_ADDR"))

	if dsn == "" {
		log.Fatal("LOCMASTER_DSN is required")
	}
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	return LocMasterConfiguration{
		LocMasterDsn:  dsn,
		ManagementDsn: managementDsn,
		ListenAddr:    listenAddr,
	}
}
