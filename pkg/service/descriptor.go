// Package service defines service descriptors, method tables and the error
// taxonomy shared by modules, the registry and callers.
package service

import (
	"github.com/morezero/plugin-host/pkg/semver"
)

// MethodDescriptor names one method of a service.
type MethodDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// NewMethod creates a MethodDescriptor.
func NewMethod(name string) MethodDescriptor {
	return MethodDescriptor{Name: name}
}

// WithDescription returns a copy with the description set.
func (m MethodDescriptor) WithDescription(description string) MethodDescriptor {
	m.Description = description
	return m
}

// Descriptor identifies a service: identifier, version, owning module and the
// methods it declares. Builder methods return copies and have no side effects.
type Descriptor struct {
	ID          string             `json:"id"`
	Version     semver.Version     `json:"version"`
	Module      string             `json:"module"`
	Description string             `json:"description,omitempty"`
	Methods     []MethodDescriptor `json:"methods,omitempty"`
}

// NewDescriptor creates a Descriptor.
func NewDescriptor(id string, version semver.Version, module string) Descriptor {
	return Descriptor{ID: id, Version: version, Module: module}
}

// WithDescription returns a copy with the description set.
func (d Descriptor) WithDescription(description string) Descriptor {
	d.Description = description
	return d
}

// WithMethods returns a copy declaring the given methods.
func (d Descriptor) WithMethods(methods ...MethodDescriptor) Descriptor {
	d.Methods = append([]MethodDescriptor(nil), methods...)
	return d
}

// Clone returns a deep copy.
func (d Descriptor) Clone() Descriptor {
	if d.Methods != nil {
		d.Methods = append([]MethodDescriptor(nil), d.Methods...)
	}
	return d
}
