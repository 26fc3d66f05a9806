package genesis

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
)

const maxTxnLine = 1 << 20

// ReadFile reads newline-delimited genesis transactions. Blank lines are skipped.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, poolerr.Wrap(poolerr.KindConfig, err, "open genesis file")
	}
	defer f.Close()

	var txns []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxTxnLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		txns = append(txns, line)
	}
	if err := sc.Err(); err != nil {
		return nil, poolerr.Wrap(poolerr.KindConfig, errors.Wrap(err, path), "read genesis file")
	}
	if len(txns) == 0 {
		return nil, poolerr.Config("empty genesis transaction file")
	}
	return txns, nil
}

// WriteFile stores transactions in the genesis file format.
func WriteFile(path string, txns []string) error {
	return os.WriteFile(path, []byte(strings.Join(txns, "\n")+"\n"), 0o644)
}
