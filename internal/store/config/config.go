package config

type Config struct {
	// postgres | mongo | memory
	DBType   string
	DBDsn    string
	MongoURI string
	MongoDB  string
}
