// Package parser extracts code from chat messages.
//
// Code is whatever sits between pairs of triple-backtick fences. A fence
// left open at the end of the message does not start a block:
//
//	blocks := parser.CodeBlocks("run this:\n```\nprint(1)\n```")
//	// blocks == []string{"print(1)"}
//
// Parse also keeps the prose around the blocks:
//
//	msg := parser.Parse(text)
//	if msg.HasCode() {
//	    code := msg.Code()
//	}
package parser
