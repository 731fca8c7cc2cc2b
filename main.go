// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("tradesync - Offline-First Data Layer for Trade Businesses")
	fmt.Println("=========================================================")
	fmt.Println()
	fmt.Println("tradesync keeps customers, invoices, quotes, orders and jobs in a local SQLite")
	fmt.Println("database, queues writes while the server is unreachable and replays them in order.")
	fmt.Println()

	fmt.Println("Available Examples:")
	fmt.Println()
	fmt.Println("1. Sync Server (examples/tradesync_server/)")
	fmt.Println("   REST server over PostgreSQL (or memory) with JWT auth and per-user scoping")
	fmt.Println("   Run: DATABASE_URL=postgres://... go run ./examples/tradesync_server")
	fmt.Println()

	fmt.Println("2. Offline Client CLI (examples/offline_client/)")
	fmt.Println("   Save records offline, inspect the sync queue and drain it against the server")
	fmt.Println("   Run: go run ./examples/offline_client --server http://localhost:8080 --user meister save-invoice --net 100 --vat 19")
	fmt.Println()
}
