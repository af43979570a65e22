/*
 * Copyright 2025 The FlowCore Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf)
	l.Debug("should not appear")
	l.Info("should not appear either")
	l.Warn("warn line")
	l.Error("error line")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "warn line")
	assert.Contains(t, out, "error line")
}

func TestWithTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf)
	child := l.With("junction.orders")
	child.Info("hello %d", 42)

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	assert.Contains(t, line, "(junction.orders)")
	assert.Contains(t, line, "hello 42")
}

func TestWithNestsComponentNames(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf)
	grandchild := l.With("junction").With("orders")
	grandchild.Info("nested")
	assert.Contains(t, buf.String(), "(junction.orders)")
}

func TestDiscardLoggerEmitsNothing(t *testing.T) {
	l := Discard()
	l.Error("this must not panic or write anywhere")
}

func TestDefaultLoggerRoundTrip(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(New(DEBUG, &buf))
	Default().Info("via default")
	assert.Contains(t, buf.String(), "via default")
}
