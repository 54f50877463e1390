// Package watch 监控一组路径模式，在文件变更时通知调用方。
//
// 核心特点：
//   - 两种检测方式：fsnotify 内核事件(ModeNotify)，或定期快照对比(ModePoll)
//   - 递归监控模式的根目录，自动把新建的子目录加入监控
//   - 路径段 ** 表示"本目录以及所有子孙目录"，轮询时通过完整的目录遍历展开
//   - 已存在的目录作为模式时，匹配其中文件名符合 Match(默认 *.go)的文件
//   - 通过 Debounce 合并一串事件：每个新事件都重新计时，窗口结束时只通知一次
//   - 提供可定制的忽略规则(IgnorePatterns)，默认忽略隐藏文件和 node_modules
//
// 两种方式对父进程来说行为一致：每次合并后的变更产生一个 Change，
// 其中 Paths 是排序后的变更路径。
//
// 注意：
//   - 通知模式只关心创建和写入(移入的文件在 fsnotify 中同样表现为创建)，删除不会触发
//   - 轮询模式对比的是 (路径, 修改时间)，新增、删除、修改都会触发
//   - 轮询间隔最小 1s
//   - Stop() 会关闭所有后台 goroutine，丢弃合并窗口中尚未发出的变更，并关闭 EventChan
//
// 推荐使用方式：
//  1. 配置 Config
//  2. 通过 NewWatcher 创建 Watcher
//  3. 调用 Start() 开始监控
//  4. 从 EventChan 读取变更
//  5. 调用 Stop() 结束监控
//
// 或者直接使用 Run，它在每次变更时回调，直到 context 结束。
// procman 的 watch 子命令就是这样运行的，回调里用 SignalParent 向 supervisor 发送 SIGHUP。
package watch
