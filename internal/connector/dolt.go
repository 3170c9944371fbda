package connector

import (
	_ "github.com/dolthub/driver"
)

func init() {
	Register("dolt", func() Connector { return newSQLConnector("dolt") })
}
