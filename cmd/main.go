package main

import (
	"log"

	"wallet_ledger/internal/app"
)

func main() {
	app, err := app.NewApp()
	if err != nil {
		log.Fatalf("Ошибка создания приложения: %v", err)
	}

	if err := app.BuildLedgerLayer(); err != nil {
		log.Fatalf("Ошибка сборки приложения: %v", err)
	}
	if err := app.Run(); err != nil {
		log.Fatalf("Ошибка при работе приложения: %v", err)
	}
}
