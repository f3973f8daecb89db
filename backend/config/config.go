package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const (
	defaultListenAddr = ":3000"
	defaultLogLevel   = "info"
	defaultIndexPath  = "index.html"
	defaultCORSAllow  = "*"
)

var (
	ErrParse = errors.New("unable to parse configuration")
)

type Config struct {
	ListenAddr  string
	IndexPath   string
	CORSAllowed []string
	LogLevel    zerolog.Level
	LogPretty   bool
}

// Load parses command line arguments. Defaults are taken from environment,
// so explicit flags take precedence over env and env over built-in values.
func Load(args []string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	logPrettyDefault, err := envBool(getenv, "LOG_PRETTY")
	if err != nil {
		return nil, errors.Join(ErrParse, err)
	}

	fs := pflag.NewFlagSet("rendezvous", pflag.ContinueOnError)
	var (
		listenAddr = fs.StringP("listen-addr", "a", listenAddrDefault(getenv), "listen address for landing page and signaling")
		logLevel   = fs.StringP("log-level", "l", envOr(getenv, "LOG_LEVEL", defaultLogLevel), "log level")
		logPretty  = fs.Bool("log-pretty", logPrettyDefault, "human readable console logs")
		indexPath  = fs.StringP("index", "i", envOr(getenv, "INDEX_FILE", defaultIndexPath), "landing page file")
		corsAllow  = fs.String("cors-allow", envOr(getenv, "CORS_ALLOW", defaultCORSAllow), "comma separated allowed origins")
	)
	if err = fs.Parse(args); err != nil {
		return nil, errors.Join(ErrParse, err)
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		return nil, errors.Join(ErrParse, err)
	}

	return &Config{
		ListenAddr:  *listenAddr,
		IndexPath:   *indexPath,
		CORSAllowed: splitCSV(*corsAllow),
		LogLevel:    lvl,
		LogPretty:   *logPretty,
	}, nil
}

func listenAddrDefault(getenv func(string) string) string {
	if v := getenv("LISTEN_ADDR"); v != "" {
		return v
	}
	if port := getenv("PORT"); port != "" {
		return ":" + port
	}
	return defaultListenAddr
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(getenv func(string) string, key string) (bool, error) {
	v := getenv(key)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
