//cmd/seeder/main.go
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	seedFiles := []string{
		"seed/schema.sql",
		"seed/contacts.sql",
		"seed/rules.sql",
		"seed/campaigns.sql",
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("failed to read %s: %v", file, err)
		}

		_, err = db.Exec(string(content))
		if err != nil {
			log.Fatalf("failed to execute %s: %v", file, err)
		}
		fmt.Printf("Seeded: %s\n", file)
	}

	fmt.Println("Database seeding completed successfully!")
}
