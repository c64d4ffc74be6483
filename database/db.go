package database

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/corrit-electric/autopay/cache"
	"github.com/corrit-electric/autopay/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		newCache, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("cache unavailable, reads fall through to postgres: %v", errCache)
		}
		instance = &Datasource{Conn: con, Cache: newCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createMandateTable(db)
	if err != nil {
		return nil, err
	}
	err = createDebitAttemptTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// createMandateTable creates a PostgreSQL table for the Mandate struct.
// The partial unique index enforces at most one non-terminal mandate per
// rider.
func createMandateTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS mandates (
			id SERIAL PRIMARY KEY,
			mandate_id TEXT NOT NULL UNIQUE,
			rider_id TEXT NOT NULL,
			order_id TEXT,
			subscription_id TEXT,
			amount BIGINT NOT NULL,
			max_amount BIGINT NOT NULL,
			frequency TEXT NOT NULL CHECK (frequency IN ('weekly', 'monthly', 'on_demand')),
			vpa TEXT,
			status TEXT NOT NULL CHECK (status IN ('pending', 'active', 'failed', 'suspended', 'cancelled')),
			status_reason TEXT,
			valid_from TIMESTAMP NOT NULL,
			valid_to TIMESTAMP NOT NULL,
			last_debit_date TIMESTAMP,
			next_debit_date TIMESTAMP,
			total_debited BIGINT NOT NULL DEFAULT 0,
			debit_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	if err != nil {
		log.Printf("Error creating mandates table: %v", err)
		return err
	}
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_mandates_live_rider
		ON mandates (rider_id)
		WHERE status NOT IN ('cancelled', 'failed')
	`)
	if err != nil {
		log.Printf("Error creating live-rider index: %v", err)
	}
	return err
}

// createDebitAttemptTable creates a PostgreSQL table for the DebitAttempt
// struct. Rows are append-only; the indexes serve scheduling reads and
// gateway callback lookups.
func createDebitAttemptTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS debit_attempts (
			id SERIAL PRIMARY KEY,
			debit_id TEXT NOT NULL UNIQUE,
			mandate_id TEXT NOT NULL REFERENCES mandates(mandate_id),
			order_id TEXT,
			transaction_id TEXT,
			amount BIGINT NOT NULL,
			scheduled_date TIMESTAMP NOT NULL,
			processed_date TIMESTAMP,
			status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'success', 'failed', 'cancelled')),
			gateway_status TEXT,
			retry_count INT NOT NULL DEFAULT 0 CHECK (retry_count >= 0 AND retry_count <= 3),
			failure_reason TEXT,
			raw_payload JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating debit_attempts table: %v", err)
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_debit_attempts_mandate_scheduled ON debit_attempts (mandate_id, scheduled_date)`)
	if err != nil {
		log.Printf("Error creating mandate/scheduled index: %v", err)
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_debit_attempts_order ON debit_attempts (order_id)`)
	if err != nil {
		log.Printf("Error creating order index: %v", err)
	}
	return err
}
