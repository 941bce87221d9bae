package dma

import "fmt"

func errPartitionOverflow(nwords, maxWords int) error {
	return fmt.Errorf("partition header declares %d words, exceeds capacity %d", nwords, maxWords)
}
