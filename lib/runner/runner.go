// Package runner executes shell tasks with bounded concurrency and streams
// their output back to the caller line by line.
package runner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/nicolasgere/lambdaknit/lib/utils"
)

// Task is one command to run in a directory.
// When Args is nil, Cmd is passed to "sh -c", otherwise Cmd is the binary and
// Args its arguments.
type Task struct {
	Id   string
	Cmd  string
	Args []string
	Root string
	Env  []string
}

type TaskResult struct {
	Status int
	Err    error
}

// TaskFuture gives access to a running task. Stdout and Stderr are closed once
// the process output is exhausted, Done receives exactly one result after that.
type TaskFuture struct {
	Id     string
	Stdout chan []byte
	Stderr chan []byte
	Done   chan TaskResult
}

type Runner struct {
	ctx context.Context
	sem chan struct{}
}

func NewRunner(ctx context.Context, concurrency int) Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return Runner{
		ctx: ctx,
		sem: make(chan struct{}, concurrency),
	}
}

// RunTasks starts every task and returns their futures in the same order.
func (r *Runner) RunTasks(tasks []Task) []*TaskFuture {
	futures := make([]*TaskFuture, len(tasks))
	for i, task := range tasks {
		futures[i] = r.RunTask(task)
	}
	return futures
}

// Wait hands every future to handle in its own goroutine and returns the
// results in the order of futures. Each future must be drained while the
// others run: a task blocked on a full output channel keeps its slot.
func Wait(futures []*TaskFuture, handle func(*TaskFuture) TaskResult) []TaskResult {
	results := make([]TaskResult, len(futures))

	var wg sync.WaitGroup
	wg.Add(len(futures))
	for i, tf := range futures {
		go func() {
			defer wg.Done()
			results[i] = handle(tf)
		}()
	}
	wg.Wait()

	return results
}

// RunTask starts a task as soon as a slot is free.
func (r *Runner) RunTask(task Task) *TaskFuture {
	tf := &TaskFuture{
		Id:     task.Id,
		Stdout: make(chan []byte, 64),
		Stderr: make(chan []byte, 64),
		Done:   make(chan TaskResult, 1),
	}

	go func() {
		select {
		case r.sem <- struct{}{}:
		case <-r.ctx.Done():
			close(tf.Stdout)
			close(tf.Stderr)
			tf.Done <- TaskResult{Status: -1, Err: r.ctx.Err()}
			return
		}
		defer func() { <-r.sem }()

		tf.Done <- r.execute(task, tf)
	}()

	return tf
}

func (r *Runner) execute(task Task, tf *TaskFuture) TaskResult {
	var cmd *exec.Cmd
	if task.Args == nil {
		cmd = exec.CommandContext(r.ctx, "sh", "-c", task.Cmd)
	} else {
		cmd = exec.CommandContext(r.ctx, task.Cmd, task.Args...)
	}
	cmd.Dir = task.Root
	if task.Env != nil {
		cmd.Env = append(os.Environ(), task.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		close(tf.Stdout)
		close(tf.Stderr)
		return TaskResult{Status: -1, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		close(tf.Stdout)
		close(tf.Stderr)
		return TaskResult{Status: -1, Err: err}
	}

	if err := cmd.Start(); err != nil {
		close(tf.Stdout)
		close(tf.Stderr)
		return TaskResult{Status: -1, Err: err}
	}

	// Pipes must be drained before Wait closes them
	var wg sync.WaitGroup
	wg.Add(2)
	go pump(stdout, tf.Stdout, &wg)
	go pump(stderr, tf.Stderr, &wg)
	wg.Wait()

	err = cmd.Wait()
	if err == nil {
		return TaskResult{Status: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return TaskResult{Status: exitErr.ExitCode(), Err: err}
	}
	return TaskResult{Status: -1, Err: err}
}

func pump(r io.Reader, out chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		out <- line
	}
	// Unblock the child if the scanner gave up on an oversized line
	io.Copy(io.Discard, r)
}

// Drain forwards every output line to the callbacks and returns the result
// once both streams are exhausted. Nil callbacks discard the stream.
func (tf *TaskFuture) Drain(onStdout, onStderr func([]byte)) TaskResult {
	stdout, stderr := tf.Stdout, tf.Stderr
	for stdout != nil || stderr != nil {
		select {
		case line, ok := <-stdout:
			if !ok {
				stdout = nil
				continue
			}
			if onStdout != nil {
				onStdout(line)
			}
		case line, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			if onStderr != nil {
				onStderr(line)
			}
		}
	}
	return <-tf.Done
}

// Log drains the task into the task-prefixed logger.
func (tf *TaskFuture) Log() TaskResult {
	return tf.Drain(
		func(line []byte) { utils.LogWithTaskId(tf.Id, string(line), utils.INFO) },
		func(line []byte) { utils.LogWithTaskId(tf.Id, string(line), utils.WARN) },
	)
}
