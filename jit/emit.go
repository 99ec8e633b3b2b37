package jit

import (
	"github.com/tmke8/uopjit/reloc"
	"github.com/tmke8/uopjit/stencil"
)

// emitGroup copies group's data half then its code half into raw at the
// given byte offsets and relocates each half against patches. Data is
// emitted first because a hole in the code half may, via GOT-load or
// ADRP-pair relaxation, dereference bytes the data half just wrote
// (spec.md §4.4).
func emitGroup(raw []byte, codeOffset, dataOffset int, group *stencil.StencilGroup, patches *stencil.PatchTable) error {
	dataSize := group.Data.BodySize()
	copy(raw[dataOffset:dataOffset+dataSize], group.Data.Body)
	dataAddr := patches.Get(stencil.ValueData)
	if err := reloc.Apply(raw[dataOffset:dataOffset+dataSize], dataAddr, group.Data.Holes, patches); err != nil {
		return err
	}

	codeSize := group.Code.BodySize()
	copy(raw[codeOffset:codeOffset+codeSize], group.Code.Body)
	codeAddr := patches.Get(stencil.ValueCode)
	if err := reloc.Apply(raw[codeOffset:codeOffset+codeSize], codeAddr, group.Code.Holes, patches); err != nil {
		return err
	}
	return nil
}
