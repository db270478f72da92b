package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	aggregatorConfig "github.com/iurnickita/freightrate/internal/aggregator/config"
	authConfig "github.com/iurnickita/freightrate/internal/auth/config"
	handlerConfig "github.com/iurnickita/freightrate/internal/handler/config"
	handshakeConfig "github.com/iurnickita/freightrate/internal/handshake/config"
	loggerConfig "github.com/iurnickita/freightrate/internal/logger/config"
	notifyConfig "github.com/iurnickita/freightrate/internal/notify/config"
	pricingConfig "github.com/iurnickita/freightrate/internal/pricing/config"
	providerConfig "github.com/iurnickita/freightrate/internal/provider/config"
	serviceConfig "github.com/iurnickita/freightrate/internal/service/config"
	storeConfig "github.com/iurnickita/freightrate/internal/store/config"
	"github.com/joho/godotenv"
)

type Config struct {
	Handler    handlerConfig.Config
	Service    serviceConfig.Config
	Store      storeConfig.Config
	Logger     loggerConfig.Config
	Auth       authConfig.Config
	Pricing    pricingConfig.Config
	Provider   providerConfig.Config
	Aggregator aggregatorConfig.Config
	Handshake  handshakeConfig.Config
	Notify     notifyConfig.Config
}

// GetConfig reads .env (if present), then command line flags, then the
// environment. The environment wins.
func GetConfig() (Config, error) {
	// .env необязателен
	_ = godotenv.Load()
	return parse(os.Args[0], os.Args[1:], os.Getenv)
}

func parse(name string, args []string, getenv func(string) string) (Config, error) {
	var cfg Config
	var currencies, fastLanes, brokers string

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.Handler.ServerAddr, "a", ":8080", "server address")
	fs.StringVar(&cfg.Store.DBType, "db", "memory", "storage: postgres | mongo | memory")
	fs.StringVar(&cfg.Store.DBDsn, "d", "", "postgres DSN")
	fs.StringVar(&cfg.Store.MongoURI, "mongo-uri", "", "mongodb URI")
	fs.StringVar(&cfg.Store.MongoDB, "mongo-db", "freightrate", "mongodb database")
	fs.StringVar(&cfg.Logger.LogLevel, "l", "info", "log level")
	fs.StringVar(&cfg.Auth.Secret, "s", "", "JWT secret")
	fs.Float64Var(&cfg.Pricing.DefaultPercentage, "markup", 15, "default markup percentage")
	fs.StringVar(&cfg.Service.BaseCurrency, "currency", "USD", "base currency")
	fs.StringVar(&currencies, "rates", "", "exchange rates to base currency, EUR:1.08,MXN:0.058")
	fs.StringVar(&cfg.Provider.LTL.BaseURL, "ltl-url", "", "LTL rate API address")
	fs.StringVar(&cfg.Provider.Forwarder.BaseURL, "forwarder-url", "", "forwarder API address")
	fs.DurationVar(&cfg.Aggregator.ProviderTimeout, "provider-timeout", 15*time.Second, "time budget of one provider call")
	fs.DurationVar(&cfg.Aggregator.PollTimeout, "poll-timeout", 30*time.Second, "time budget of one poll call")
	fs.StringVar(&fastLanes, "fast-lanes", "", "lanes with fast async answers, US-MX,US-CA")
	fs.DurationVar(&cfg.Handshake.TokenTTL, "token-ttl", 30*time.Minute, "carrier link lifetime")
	fs.StringVar(&brokers, "brokers", "", "kafka brokers")
	fs.StringVar(&cfg.Notify.FormURL, "form-url", "", "carrier form address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	env := envReader{getenv: getenv}
	env.str("SERVER_ADDRESS", &cfg.Handler.ServerAddr)
	env.str("DB_TYPE", &cfg.Store.DBType)
	env.str("DATABASE_URI", &cfg.Store.DBDsn)
	env.str("MONGO_URI", &cfg.Store.MongoURI)
	env.str("MONGO_DB", &cfg.Store.MongoDB)
	env.str("LOG_LEVEL", &cfg.Logger.LogLevel)
	env.str("JWT_SECRET", &cfg.Auth.Secret)
	env.float("DEFAULT_MARKUP", &cfg.Pricing.DefaultPercentage)
	env.str("BASE_CURRENCY", &cfg.Service.BaseCurrency)
	env.str("EXCHANGE_RATES", &currencies)
	env.str("LTL_URL", &cfg.Provider.LTL.BaseURL)
	env.str("LTL_API_KEY", &cfg.Provider.LTL.APIKey)
	env.str("LTL_ACCOUNT", &cfg.Provider.LTL.AccountNo)
	env.str("FORWARDER_URL", &cfg.Provider.Forwarder.BaseURL)
	env.str("FORWARDER_API_KEY", &cfg.Provider.Forwarder.APIKey)
	env.duration("PROVIDER_TIMEOUT", &cfg.Aggregator.ProviderTimeout)
	env.duration("POLL_TIMEOUT", &cfg.Aggregator.PollTimeout)
	env.str("FAST_LANES", &fastLanes)
	env.duration("CARRIER_TOKEN_TTL", &cfg.Handshake.TokenTTL)
	env.str("KAFKA_BROKERS", &brokers)
	env.str("CARRIER_FORM_URL", &cfg.Notify.FormURL)
	if env.err != nil {
		return Config{}, env.err
	}

	rates, err := parseRates(currencies)
	if err != nil {
		return Config{}, err
	}

	cfg.Provider.BaseCurrency = cfg.Service.BaseCurrency
	cfg.Provider.Currencies = rates
	cfg.Provider.LTL.Code = "LTLRATE"
	cfg.Provider.LTL.Enabled = cfg.Provider.LTL.BaseURL != ""
	cfg.Provider.Forwarder.Code = "FORWARDER"
	cfg.Provider.Forwarder.Enabled = cfg.Provider.Forwarder.BaseURL != ""

	cfg.Aggregator.FastLanes = splitList(fastLanes)
	cfg.Aggregator.Fast = aggregatorConfig.Policy{InitialDelay: 5 * time.Second, Interval: 5 * time.Second, MaxAttempts: 12}
	cfg.Aggregator.Slow = aggregatorConfig.Policy{InitialDelay: 30 * time.Second, Interval: 30 * time.Second, MaxAttempts: 20}

	cfg.Logger.MaskedPaths = []string{"/api/carrier/quotes/"}

	cfg.Notify.Brokers = splitList(brokers)
	cfg.Notify.InvitationTopic = "freightrate.carrier-invited"
	cfg.Notify.RequestTopic = "freightrate.request-finished"

	return cfg, nil
}

type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key string, dst *string) {
	if v := e.getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) float(key string, dst *float64) {
	v := e.getenv(key)
	if v == "" || e.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = f
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v := e.getenv(key)
	if v == "" || e.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRates reads "EUR:1.08,MXN:0.058".
func parseRates(s string) (map[string]float64, error) {
	rates := make(map[string]float64)
	for _, pair := range splitList(s) {
		code, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("exchange rate %q: want CODE:RATE", pair)
		}
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("exchange rate %q: bad rate", pair)
		}
		rates[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return rates, nil
}
