package server

type Server interface {
	Start() error
	Stop() error
	// Addr is the address the server is reachable on once started.
	Addr() string
}
