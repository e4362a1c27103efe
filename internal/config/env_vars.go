package config

import (
	"fmt"
	"strings"
)

const (
	apiURLVar         = "NEXT_PUBLIC_API_URL"
	productionEnvName = "production"
)

type EnvVars struct {
	Port      string `env:"PORT" envDefault:"8080"`
	AppName   string `env:"APP_NAME" envDefault:"Qwirl Session"`
	Env       string `env:"APP_ENV" envDefault:"DEV"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	APIURL    string `env:"NEXT_PUBLIC_API_URL"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.Port
	if port == "" {
		port = "8080"
	}
	if port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	return e.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetAPIURL returns the Qwirl backend base URL without a trailing slash
// (e.g. "https://api.qwirl.app").
func (e EnvVars) GetAPIURL() string {
	return e.APIURL
}

// GetPublicURL returns the URL browsers use to reach this relay. The OAuth
// redirect URL is built from it.
func (e EnvVars) GetPublicURL() string {
	return e.PublicURL
}

func (e EnvVars) IsProduction() bool {
	return strings.EqualFold(e.Env, productionEnvName)
}
