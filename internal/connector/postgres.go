package connector

import (
	_ "github.com/lib/pq"
)

func init() {
	Register("postgres", func() Connector { return newSQLConnector("postgres") })
}
