package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_ReverseOrderOnce(t *testing.T) {
	m := NewManager()
	var order []string
	m.OnShutdown("store", func(context.Context) error { order = append(order, "store"); return nil })
	m.OnShutdown("api", func(context.Context) error { order = append(order, "api"); return errors.New("busy") })

	errs := m.Shutdown(context.Background())
	assert.Equal(t, []string{"api", "store"}, order)
	assert.Len(t, errs, 1)

	assert.Nil(t, m.Shutdown(context.Background()))
	assert.Len(t, order, 2)
}
