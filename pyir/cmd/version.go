// Copyright © 2024 The PyIR Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information

With -x/--executable given, the version of IgBLAST is also printed.

`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("PyIR v%s\n", VERSION)

		exe := getFlagString(cmd, "executable")
		if exe == "" {
			return
		}
		out, err := exec.Command(exe, "-version").CombinedOutput()
		if err != nil {
			checkError(fmt.Errorf("fail to run %s: %s", exe, err))
		}
		fmt.Println(strings.TrimSpace(string(out)))
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringP("executable", "x", "",
		formatFlagUsage(`Path of igblastn.`))

	versionCmd.SetUsageTemplate(usageTemplate(""))
}
