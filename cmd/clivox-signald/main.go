package main

import (
	"log"
	"net/http"
	"os"

	"clivox/broadcast/internal/signalserver"

	"github.com/joho/godotenv"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	_ = godotenv.Load()

	addr := os.Getenv("CLIVOX_LISTEN")
	if addr == "" {
		addr = ":8000"
	}

	srv := signalserver.New()
	log.Printf("[main] signaling relay listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatalf("[main] %v", err)
	}
}
