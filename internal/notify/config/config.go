package config

type Config struct {
	// пусто - события только пишутся в лог
	Brokers         []string
	InvitationTopic string
	RequestTopic    string
	// адрес формы перевозчика, к нему дописывается токен
	FormURL string
}
