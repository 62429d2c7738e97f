/*
Package sandbox runs JavaScript programs as processes.

Each process gets its own goja VM. The program source is compiled once per
process and run with the process's streams and syscalls bound as globals:

	input([n])        read up to n bytes (default 4096); null at end of input
	inputLine()       read one line including its newline; null at end of input
	inputAll()        read until end of input
	inputExact(n)     read exactly n bytes, fewer only at end of input
	output(s)         write to standard output
	error(s)          write to standard error
	create(path, args, opts)
	wait(pid) kill(pid) start(pid) pipe(out, in) list()
	exit(code)        end the process
	sleep(ms)
	readFile(name) writeFile(name, data) glob(pattern)
	pid args cwd

Syscalls follow errno conventions: failures return the negative error code
instead of throwing. console.log and friends are forwarded to the host as
LOG messages when enabled.

Node-style globals (require, process, module, exports) are removed. A kill
interrupts the VM at the next instruction boundary.
*/
package sandbox
