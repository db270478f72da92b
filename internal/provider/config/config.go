package config

type Config struct {
	BaseCurrency string
	// курс: сколько единиц базовой валюты за одну единицу валюты
	Currencies map[string]float64
	LTL        Endpoint
	Forwarder  Endpoint
}

type Endpoint struct {
	Code      string
	BaseURL   string
	APIKey    string
	AccountNo string
	Enabled   bool
}
