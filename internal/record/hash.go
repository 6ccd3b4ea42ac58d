package record

import (
	"encoding/json"
	"strconv"

	"taxsync/internal/infrastructure/taxapi"

	"github.com/cespare/xxhash/v2"
)

// HashTransaction 交易内容指纹，用来识别"改了但税务相关字段没变"的更新
func HashTransaction(txn *taxapi.Transaction) string {
	body, err := json.Marshal(txn)
	if err != nil {
		return ""
	}
	d := xxhash.New()
	_, _ = d.WriteString(txn.Type)
	_, _ = d.Write(body)
	return strconv.FormatUint(d.Sum64(), 16)
}

func cents(v int64) float64 {
	return float64(v) / 100
}
