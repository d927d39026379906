package mesh

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskQueueRunsInOrder(t *testing.T) {
	q := newTaskQueue()
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.run()
	}()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		q.push(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	q.close()
	<-done

	assert.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.False(t, q.push(func() {}), "closed queue must refuse work")
}
