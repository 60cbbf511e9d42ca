// Command orderflow 订单消息路由的命令行入口.
//
// 用法:
//
//	orderflow [-config file] [-dev] [-memory] <command> [args]
//
// 命令:
//
//	setup                      声明交换机、队列与绑定
//	produce                    发布示例订单
//	worker <type> [id]         处理某类订单
//	notification               客户通知订阅者
//	analytics                  统计订阅者
//	logs                       日志主题订阅者
//	rpc-server                 库存查询服务
//	rpc-call <product> [qty]   查询库存
//	monitor                    定时巡检队列深度
//	demo                       在同一进程内运行全部组件并发布示例订单
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/Tsukikage7/orderflow/config"
)

var version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `用法: orderflow [flags] <command> [args]

命令:
  setup                      声明交换机、队列与绑定
  produce                    发布示例订单
  worker <type> [id]         处理某类订单 (standard|express|international)
  notification               客户通知订阅者
  analytics                  统计订阅者
  logs                       日志主题订阅者
  rpc-server                 库存查询服务
  rpc-call <product> [qty]   查询库存
  monitor                    定时巡检队列深度
  demo                       在同一进程内运行全部组件

flags:
`)
	flag.PrintDefaults()
}

func main() {
	var (
		configPath string
		dev        bool
		inMemory   bool
	)

	flag.StringVar(&configPath, "config", "", "配置文件路径 (yaml/json/toml)")
	flag.BoolVar(&dev, "dev", false, "从 .env 加载环境变量")
	flag.BoolVar(&inMemory, "memory", false, "使用进程内 Broker")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if dev {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "加载 .env 失败: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, inMemory, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "orderflow: %v\n", err)
		os.Exit(1)
	}
}
