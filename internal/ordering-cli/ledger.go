package ordering

import (
	"fmt"
	"time"

	json "github.com/nikkolasg/hexjson"
	"github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/drand/ordering/common/log"
	"github.com/drand/ordering/internal/ledger"
)

func ledgerCmd(c *cli.Context, l log.Logger) error {
	index, err := getIndex(c)
	if err != nil {
		return err
	}
	// a running participant holds the lock on the database
	lg, err := ledger.Open(c.Context, l, c.String(folderFlag.Name), index, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return err
	}
	defer lg.Close()

	return lg.Each(c.Context, func(e *ledger.Entry) error {
		buff, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.App.Writer, string(buff))
		return err
	})
}
