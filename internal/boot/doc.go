// Package boot launches the programs listed in a manifest when the
// supervisor starts.
//
// A manifest is YAML or TOML, chosen by file extension:
//
//	programs:
//	  - name: source
//	    path: /bin/echo
//	    args: [hello]
//	    pipe_stdout: true
//	    start: true
//	  - name: sink
//	    path: /bin/wc
//	    stdin_from: source
//	    start: true
//	    wait: true
//
// Every entry is created before any is started. stdin_from joins the named
// earlier entry's stdout to this entry's stdin and implies the pipe flags on
// both sides. Entries are then started in order; wait holds back the starts
// that follow until the process exits.
package boot
