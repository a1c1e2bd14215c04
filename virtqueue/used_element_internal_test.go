package virtqueue

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestUsedElement_Size(t *testing.T) {
	assert.EqualValues(t, usedElementSize, unsafe.Sizeof(UsedElement{}))
}

func TestUsedElement_Head(t *testing.T) {
	e := UsedElement{DescriptorIndex: 42, Length: 1500}
	assert.EqualValues(t, 42, e.Head())
}
