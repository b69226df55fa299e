package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/blnkfinance/onboarding/config"
	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Declare a package-level variable to hold the singleton instance.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
	// NotifyChannel receives a pg_notify after every commit that wrote outbox rows.
	// Empty disables the notification.
	NotifyChannel string
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
		instance = &Datasource{Conn: con, NotifyChannel: configuration.Outbox.ListenChannel}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens the pool. Tables are created by the migrate command.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		logrus.WithError(err).Error("database connection error")
		return nil, err
	}
	return db, nil
}

// withTx runs fn in a transaction. The transaction is rolled back when fn fails or ctx is
// cancelled before commit, taking any outbox rows with it.
func (d Datasource) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logrus.WithError(rbErr).Warn("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// mapError translates driver errors into API errors. Unique violations become CONFLICT;
// everything else keeps its cause and is reported as an internal error.
func mapError(err error, message string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return apierror.Wrap(apierror.ErrConflict, message, err)
	}
	if _, ok := apierror.CodeOf(err); ok {
		return err
	}
	return apierror.Wrap(apierror.ErrInternalServer, message, errors.Wrap(err, message))
}

// nullableJSON stores nil as SQL NULL.
func nullableJSON(v interface{}, isNil bool) (interface{}, error) {
	if isNil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func scanJSON(raw []byte, dst interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
