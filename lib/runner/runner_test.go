package runner

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTaskStreamsOutput(t *testing.T) {
	r := NewRunner(context.Background(), 2)

	tf := r.RunTask(Task{Id: "echo", Cmd: "echo out; echo err 1>&2; echo again", Root: t.TempDir()})

	var stdout, stderr []string
	result := tf.Drain(
		func(line []byte) { stdout = append(stdout, string(line)) },
		func(line []byte) { stderr = append(stderr, string(line)) },
	)

	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.Status)
	assert.Equal(t, []string{"out", "again"}, stdout)
	assert.Equal(t, []string{"err"}, stderr)
}

func TestRunTaskExitStatus(t *testing.T) {
	r := NewRunner(context.Background(), 1)

	result := r.RunTask(Task{Id: "fail", Cmd: "exit 3", Root: t.TempDir()}).Drain(nil, nil)

	require.Error(t, result.Err)
	assert.Equal(t, 3, result.Status)
}

func TestRunTaskWithArgs(t *testing.T) {
	r := NewRunner(context.Background(), 1)
	dir := t.TempDir()

	var lines []string
	result := r.RunTask(Task{Id: "pwd", Cmd: "pwd", Args: []string{}, Root: dir}).
		Drain(func(line []byte) { lines = append(lines, string(line)) }, nil)

	require.NoError(t, result.Err)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], strings.TrimPrefix(dir, "/private")))
}

func TestRunTasksKeepsOrder(t *testing.T) {
	r := NewRunner(context.Background(), 2)

	tasks := []Task{
		{Id: "a", Cmd: "echo a"},
		{Id: "b", Cmd: "echo b"},
		{Id: "c", Cmd: "echo c"},
	}
	futures := r.RunTasks(tasks)
	require.Len(t, futures, 3)

	for i, tf := range futures {
		assert.Equal(t, tasks[i].Id, tf.Id)
		var got string
		result := tf.Drain(func(line []byte) { got = string(line) }, nil)
		require.NoError(t, result.Err)
		assert.Equal(t, tasks[i].Id, got)
	}
}

func TestRunTaskMissingBinary(t *testing.T) {
	r := NewRunner(context.Background(), 1)

	result := r.RunTask(Task{Id: "nope", Cmd: "definitely-not-a-binary-xyz", Args: []string{}}).Drain(nil, nil)

	require.Error(t, result.Err)
	assert.Equal(t, -1, result.Status)
}

func TestRunTaskCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(ctx, 1)

	result := r.RunTask(Task{Id: "late", Cmd: "echo never"}).Drain(nil, nil)
	require.Error(t, result.Err)
}

func TestWaitDrainsMoreTasksThanSlots(t *testing.T) {
	r := NewRunner(context.Background(), 1)

	// Enough output per task to fill both the channel and the pipe buffer
	tasks := make([]Task, 4)
	for i := range tasks {
		tasks[i] = Task{Id: fmt.Sprintf("t%d", i), Cmd: "seq 1 50000", Root: t.TempDir()}
	}

	done := make(chan []TaskResult, 1)
	lines := make([]int, len(tasks))
	go func() {
		futures := r.RunTasks(tasks)
		index := make(map[*TaskFuture]int, len(futures))
		for i, tf := range futures {
			index[tf] = i
		}
		done <- Wait(futures, func(tf *TaskFuture) TaskResult {
			i := index[tf]
			return tf.Drain(func([]byte) { lines[i]++ }, nil)
		})
	}()

	select {
	case results := <-done:
		require.Len(t, results, len(tasks))
		for i, result := range results {
			require.NoError(t, result.Err, tasks[i].Id)
			assert.Equal(t, 50000, lines[i], tasks[i].Id)
		}
	case <-time.After(60 * time.Second):
		t.Fatal("tasks never completed")
	}
}
