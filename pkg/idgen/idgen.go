// Package idgen 提供基于雪花算法的业务 ID 生成器
package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init 初始化生成器节点，nodeID 取值 0-1023，多实例部署时必须互不相同
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// GenID 生成一个全局唯一的 int64 ID
func GenID() int64 {
	if node == nil {
		if err := Init(1); err != nil {
			panic(fmt.Sprintf("idgen: init failed: %v", err))
		}
	}
	return node.Generate().Int64()
}

// GenIDString 生成字符串形式的唯一 ID
func GenIDString() string {
	if node == nil {
		if err := Init(1); err != nil {
			panic(fmt.Sprintf("idgen: init failed: %v", err))
		}
	}
	return node.Generate().String()
}
