package redis

import (
	"fmt"
	"io"
	"log"
	"reflect"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

// xaddFieldsInAnyOrder 比較 XADD 參數時忽略欄位順序，
// 因為 map 展開後的欄位順序不固定
func xaddFieldsInAnyOrder(expected, actual []interface{}) error {
	const prefix = 3 // "xadd"、stream、id
	if len(expected) != len(actual) || len(expected) < prefix {
		return fmt.Errorf("args length mismatch, expectation: '%v', but gave: '%v'", expected, actual)
	}
	if !reflect.DeepEqual(expected[:prefix], actual[:prefix]) {
		return fmt.Errorf("args not `DeepEqual`, expectation: '%v', but gave: '%v'", expected[:prefix], actual[:prefix])
	}
	pairs := func(args []interface{}) map[interface{}]interface{} {
		m := make(map[interface{}]interface{}, (len(args)-prefix)/2)
		for i := prefix; i+1 < len(args); i += 2 {
			m[args[i]] = args[i+1]
		}
		return m
	}
	if !reflect.DeepEqual(pairs(expected), pairs(actual)) {
		return fmt.Errorf("field-value pairs not equal, expectation: '%v', but gave: '%v'", expected, actual)
	}
	return nil
}

type TestMessage struct {
	ID   string `json:"id" msgpack:"id"`
	Data string `json:"data" msgpack:"data"`
}
