package main

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cms-pm/cockpit-sub008/internal/proto"
)

// roundTrip sends req under a fresh sequence_id and waits for exactly one
// response, surfacing a device-side ErrorReportResp as a classifiable error.
func roundTrip(s *session, req proto.Request) (proto.Response, error) {
	seq := s.seq()
	if err := encodeAndSend(s.t, seq, req); err != nil {
		return nil, err
	}
	_, result, resp, err := receiveResponse(s.t)
	if err != nil {
		return nil, err
	}
	if result != proto.ResultSuccess {
		if report, ok := resp.(proto.ErrorReportResp); ok {
			return nil, errorReportErr(report)
		}
		return nil, fmt.Errorf("device returned %s", result)
	}
	return resp, nil
}

func newHandshakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handshake",
		Short: "Perform the initial handshake and print the negotiated capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := openSession()
			resp, err := roundTrip(s, proto.HandshakeReq{Capabilities: 0xFFFFFFFF, MaxPacketSize: 256})
			if err != nil {
				printErrorReport(err.Error())
				return err
			}
			hs := resp.(proto.HandshakeResp)
			fmt.Printf("bootloader_version=%s capabilities=0x%08X flash_page_size=%d target_flash_address=0x%08X\n",
				hs.BootloaderVersion, hs.SupportedCapabilities, hs.FlashPageSize, hs.TargetFlashAddress)
			return nil
		},
	}
}

func newDeviceInfoCmd() *cobra.Command {
	var withID bool
	cmd := &cobra.Command{
		Use:   "device-info",
		Short: "Handshake then query device and flash region information",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := openSession()
			if _, err := roundTrip(s, proto.HandshakeReq{Capabilities: 0xFFFFFFFF, MaxPacketSize: 256}); err != nil {
				return err
			}
			resp, err := roundTrip(s, proto.DeviceInfoReq{IncludeMemoryLayout: true, IncludeDeviceID: withID})
			if err != nil {
				printErrorReport(err.Error())
				return err
			}
			info := resp.(proto.DeviceInfoResp)
			fmt.Printf("model=%s bootloader_version=%s flash_total=%d flash_page_size=%d hw_rev=%d\n",
				info.DeviceModel, info.BootloaderVersion, info.FlashTotalSize, info.FlashPageSize, info.HardwareRevision)
			fmt.Printf("bootloader=[0x%08X,0x%08X) hypervisor=[0x%08X,0x%08X) bytecode=[0x%08X,0x%08X)\n",
				info.Regions.BootloaderStart, info.Regions.BootloaderEnd,
				info.Regions.HypervisorStart, info.Regions.HypervisorEnd,
				info.Regions.BytecodeStart, info.Regions.BytecodeEnd)
			if withID {
				fmt.Printf("unique_device_id=%x\n", info.UniqueDeviceID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withID, "with-id", false, "also request the unique device ID")
	return cmd
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <addr> <len>",
		Short: "Handshake then read a flash range, verifying each chunk's checksum",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := strconv.ParseUint(args[0], 0, 32)
			if err != nil {
				return fmt.Errorf("bad address %q: %w", args[0], err)
			}
			length, err := strconv.ParseUint(args[1], 0, 16)
			if err != nil {
				return fmt.Errorf("bad length %q: %w", args[1], err)
			}

			s := openSession()
			if _, err := roundTrip(s, proto.HandshakeReq{Capabilities: 0xFFFFFFFF, MaxPacketSize: 256}); err != nil {
				return err
			}

			seq := s.seq()
			req := proto.FlashReadReq{StartAddress: uint32(addr), Length: uint16(length), IncludeChecksum: true}
			if err := encodeAndSend(s.t, seq, req); err != nil {
				return err
			}

			var out []byte
			for {
				_, result, resp, err := receiveResponse(s.t)
				if err != nil {
					printErrorReport(err.Error())
					return err
				}
				if result != proto.ResultSuccess {
					if report, ok := resp.(proto.ErrorReportResp); ok {
						err := errorReportErr(report)
						printErrorReport(err.Error())
						return err
					}
					return fmt.Errorf("device returned %s", result)
				}
				chunk := resp.(proto.FlashReadResp)
				out = append(out, chunk.FlashData...)
				if !chunk.HasMoreChunks {
					break
				}
			}
			os.Stdout.Write(out)
			fmt.Fprintf(os.Stderr, "cockpitbootctl: read %d bytes from 0x%08X\n", len(out), addr)
			return nil
		},
	}
}

// maxDataPacketSize bounds a single DataPacketReq payload written to the
// device; §4.8's flash programming branch accepts any packet the protocol
// engine's staging buffer can absorb in one AcceptDataPacket call.
const maxDataPacketSize = 512

func newProgramCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "program <file>",
		Short: "Handshake, then stream a file into flash and verify the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			s := openSession()
			if _, err := roundTrip(s, proto.HandshakeReq{Capabilities: 0xFFFFFFFF, MaxPacketSize: 256}); err != nil {
				return err
			}
			if _, err := roundTrip(s, proto.FlashProgramReq{TotalLength: uint32(len(data)), VerifyAfterProgram: verify}); err != nil {
				printErrorReport(err.Error())
				return err
			}

			for offset := 0; offset < len(data); offset += maxDataPacketSize {
				end := offset + maxDataPacketSize
				if end > len(data) {
					end = len(data)
				}
				packet := data[offset:end]
				req := proto.DataPacketReq{Offset: uint32(offset), Data: packet, DataCrc32: crc32.ChecksumIEEE(packet)}
				if _, err := roundTrip(s, req); err != nil {
					printErrorReport(err.Error())
					return err
				}
			}

			resp, err := roundTrip(s, proto.FlashProgramReq{TotalLength: uint32(len(data)), VerifyAfterProgram: verify})
			if err != nil {
				printErrorReport(err.Error())
				return err
			}
			result := resp.(proto.FlashProgramResp)
			fmt.Printf("bytes_programmed=%d flash_crc32=0x%08X verification_hash=%x hardware_verify_passed=%v\n",
				result.BytesProgrammed, result.FlashCrc32, result.VerificationHash, result.HardwareVerifyPassed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "ask the device to read back and verify after programming")
	return cmd
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover {retry|abort|clear}",
		Short: "Send an ErrorRecovery request with the given action",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := resolveRecoveryAction(args)
			if err != nil {
				return err
			}

			s := openSession()
			resp, err := roundTrip(s, proto.ErrorRecoveryReq{Action: action})
			if err != nil {
				printErrorReport(err.Error())
				return err
			}
			ack := resp.(proto.AckResp)
			fmt.Printf("recovered=%v message=%q\n", ack.Success, ack.Message)
			return nil
		},
	}
}

// resolveRecoveryAction returns the action named on the command line, or
// prompts interactively (raw terminal, §6.5) when none was given.
func resolveRecoveryAction(args []string) (proto.RecoveryAction, error) {
	if len(args) == 1 {
		return parseRecoveryAction(args[0])
	}

	fmt.Println("select recovery action: [r]etry  [a]bort  [c]lear")
	fd := int(os.Stdin.Fd())
	oldState, rawErr := term.MakeRaw(fd)
	if rawErr == nil {
		defer term.Restore(fd, oldState)
	}
	reader := bufio.NewReader(os.Stdin)
	b, err := reader.ReadByte()
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(string(b)) {
	case "r":
		return proto.RecoveryRetryLastOperation, nil
	case "a":
		return proto.RecoveryAbortAndReset, nil
	case "c":
		return proto.RecoveryClearErrorState, nil
	default:
		return 0, fmt.Errorf("unknown recovery action %q", string(b))
	}
}

func parseRecoveryAction(s string) (proto.RecoveryAction, error) {
	switch strings.ToLower(s) {
	case "retry":
		return proto.RecoveryRetryLastOperation, nil
	case "abort":
		return proto.RecoveryAbortAndReset, nil
	case "clear":
		return proto.RecoveryClearErrorState, nil
	default:
		return 0, fmt.Errorf("unknown recovery action %q (want retry|abort|clear)", s)
	}
}
