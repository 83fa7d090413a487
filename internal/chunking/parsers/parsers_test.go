package parsers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/prd-engine/internal/chunking"
	"github.com/S-Corkum/prd-engine/internal/models"
)

const goSample = `package payments

import (
	"context"
	"fmt"
)

type Processor struct {
	retries int
}

type Gateway interface {
	Charge(ctx context.Context, amount int) error
}

const (
	StatusPending  = "pending"
	StatusCaptured = "captured"
)

func NewProcessor() *Processor {
	return &Processor{retries: 3}
}

func (p *Processor) Charge(ctx context.Context, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("invalid amount %d", amount)
	}
	return nil
}
`

func TestGoParserExtractsDeclarations(t *testing.T) {
	parser := NewGoParser()
	chunks, err := parser.Parse(context.Background(), goSample, "processor.go")
	require.NoError(t, err)

	byName := map[string]*chunking.CodeChunk{}
	for _, c := range chunks {
		byName[c.Name] = c
	}

	require.Contains(t, byName, "NewProcessor")
	assert.Equal(t, models.ChunkFunction, byName["NewProcessor"].Type)

	require.Contains(t, byName, "Processor.Charge")
	assert.Equal(t, models.ChunkFunction, byName["Processor.Charge"].Type)

	require.Contains(t, byName, "Processor")
	assert.Equal(t, models.ChunkStruct, byName["Processor"].Type)

	require.Contains(t, byName, "Gateway")
	assert.Equal(t, models.ChunkInterface, byName["Gateway"].Type)

	require.Contains(t, byName, "StatusPending")
	assert.Equal(t, models.ChunkEnum, byName["StatusPending"].Type)
	assert.Contains(t, byName["StatusPending"].Symbols, "StatusCaptured")

	for _, c := range chunks {
		assert.Contains(t, c.Imports, "context")
		assert.True(t, c.StartLine >= 1 && c.EndLine >= c.StartLine)
	}
}

func TestGoParserLineNumbers(t *testing.T) {
	parser := NewGoParser()
	chunks, err := parser.Parse(context.Background(), goSample, "processor.go")
	require.NoError(t, err)

	for _, c := range chunks {
		if c.Name == "NewProcessor" {
			assert.Equal(t, 21, c.StartLine)
			assert.Equal(t, 23, c.EndLine)
		}
	}
}

const tsSample = `import { api } from "./api";
import axios from "axios";

export interface User {
  id: string;
  name: string;
}

export enum Role {
  Admin,
  Member,
}

export class UserService {
  async fetch(id: string): Promise<User> {
    return api.get(id);
  }
}

export const listUsers = async () => {
  return axios.get("/users");
};

function legacyHelper() {
  return 42;
}
`

func TestTypeScriptParserExtractsDeclarations(t *testing.T) {
	parser := NewTypeScriptParser()
	chunks, err := parser.Parse(context.Background(), tsSample, "users.ts")
	require.NoError(t, err)

	types := map[string]models.CodeChunkType{}
	for _, c := range chunks {
		types[c.Name] = c.Type
	}

	assert.Equal(t, models.ChunkInterface, types["User"])
	assert.Equal(t, models.ChunkEnum, types["Role"])
	assert.Equal(t, models.ChunkClass, types["UserService"])
	assert.Equal(t, models.ChunkFunction, types["listUsers"])
	assert.Equal(t, models.ChunkFunction, types["legacyHelper"])

	for _, c := range chunks {
		assert.Contains(t, c.Imports, "./api")
		assert.Contains(t, c.Imports, "axios")
	}
}

const pySample = `import os
from django.db import models

class Invoice(models.Model):
    amount = models.IntegerField()

    def total(self):
        return self.amount

def render_invoice(invoice):
    return str(invoice.total())
`

func TestPythonParserExtractsTopLevelBlocks(t *testing.T) {
	parser := NewPythonParser()
	chunks, err := parser.Parse(context.Background(), pySample, "invoice.py")
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, models.ChunkClass, chunks[0].Type)
	assert.Equal(t, "Invoice", chunks[0].Name)
	assert.Contains(t, chunks[0].Content, "def total")

	assert.Equal(t, models.ChunkFunction, chunks[1].Type)
	assert.Equal(t, "render_invoice", chunks[1].Name)

	assert.Contains(t, chunks[0].Imports, "os")
	assert.Contains(t, chunks[0].Imports, "django.db")
}

func TestFallbackChunkingForUnknownLanguage(t *testing.T) {
	service := NewChunkingService(120, 20)

	long := ""
	for i := 0; i < 40; i++ {
		long += "line of plain text content\n"
	}
	chunks, err := service.ChunkFile(context.Background(), "notes.txt", long)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.Equal(t, models.ChunkOther, c.Type)
		assert.LessOrEqual(t, len(c.Content), 150)
		assert.Greater(t, c.TokenCount, 0)
	}
}

func TestChunkServiceDetectsLanguage(t *testing.T) {
	service := NewChunkingService(0, 0)
	assert.Equal(t, "go", service.DetectLanguage("a/b/main.go"))
	assert.Equal(t, "typescript", service.DetectLanguage("src/app.tsx"))
	assert.Equal(t, "python", service.DetectLanguage("tasks.py"))
	assert.Equal(t, "unknown", service.DetectLanguage("Makefile"))
}
