package connector

import (
	_ "github.com/go-sql-driver/mysql"
)

func init() {
	Register("mysql", func() Connector { return newSQLConnector("mysql") })
}
