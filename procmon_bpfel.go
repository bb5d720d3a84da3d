// Code generated by bpf2go; DO NOT EDIT.
//go:build 386 || amd64 || arm || arm64 || loong64 || mips64le || mipsle || ppc64le || riscv64

package main

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"

	"github.com/cilium/ebpf"
)

// loadProcmon returns the embedded CollectionSpec for procmon.
func loadProcmon() (*ebpf.CollectionSpec, error) {
	reader := bytes.NewReader(_ProcmonBytes)
	spec, err := ebpf.LoadCollectionSpecFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("can't load procmon: %w", err)
	}

	return spec, err
}

// loadProcmonObjects loads procmon and converts it into a struct.
//
// The following types are suitable as obj argument:
//
//	*procmonObjects
//	*procmonPrograms
//	*procmonMaps
//
// See ebpf.CollectionSpec.LoadAndAssign documentation for details.
func loadProcmonObjects(obj interface{}, opts *ebpf.CollectionOptions) error {
	spec, err := loadProcmon()
	if err != nil {
		return err
	}

	return spec.LoadAndAssign(obj, opts)
}

// procmonSpecs contains maps and programs before they are loaded into the kernel.
//
// It can be passed ebpf.CollectionSpec.Assign.
type procmonSpecs struct {
	procmonProgramSpecs
	procmonMapSpecs
}

// procmonSpecs contains programs before they are loaded into the kernel.
//
// It can be passed ebpf.CollectionSpec.Assign.
type procmonProgramSpecs struct {
	HandleClose    *ebpf.ProgramSpec `ebpf:"handle_close"`
	HandleExec     *ebpf.ProgramSpec `ebpf:"handle_exec"`
	HandleExit     *ebpf.ProgramSpec `ebpf:"handle_exit"`
	HandleOpenat   *ebpf.ProgramSpec `ebpf:"handle_openat"`
	HandleReadline *ebpf.ProgramSpec `ebpf:"handle_readline"`
}

// procmonMapSpecs contains maps before they are loaded into the kernel.
//
// It can be passed ebpf.CollectionSpec.Assign.
type procmonMapSpecs struct {
	Events *ebpf.MapSpec `ebpf:"events"`
}

// procmonObjects contains all objects after they have been loaded into the kernel.
//
// It can be passed to loadProcmonObjects or ebpf.CollectionSpec.LoadAndAssign.
type procmonObjects struct {
	procmonPrograms
	procmonMaps
}

func (o *procmonObjects) Close() error {
	return _ProcmonClose(
		&o.procmonPrograms,
		&o.procmonMaps,
	)
}

// procmonMaps contains all maps after they have been loaded into the kernel.
//
// It can be passed to loadProcmonObjects or ebpf.CollectionSpec.LoadAndAssign.
type procmonMaps struct {
	Events *ebpf.Map `ebpf:"events"`
}

func (m *procmonMaps) Close() error {
	return _ProcmonClose(
		m.Events,
	)
}

// procmonPrograms contains all programs after they have been loaded into the kernel.
//
// It can be passed to loadProcmonObjects or ebpf.CollectionSpec.LoadAndAssign.
type procmonPrograms struct {
	HandleClose    *ebpf.Program `ebpf:"handle_close"`
	HandleExec     *ebpf.Program `ebpf:"handle_exec"`
	HandleExit     *ebpf.Program `ebpf:"handle_exit"`
	HandleOpenat   *ebpf.Program `ebpf:"handle_openat"`
	HandleReadline *ebpf.Program `ebpf:"handle_readline"`
}

func (p *procmonPrograms) Close() error {
	return _ProcmonClose(
		p.HandleClose,
		p.HandleExec,
		p.HandleExit,
		p.HandleOpenat,
		p.HandleReadline,
	)
}

func _ProcmonClose(closers ...io.Closer) error {
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Do not access this directly.
//
//go:embed procmon_bpfel.o
var _ProcmonBytes []byte
